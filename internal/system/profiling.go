package system

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/sirupsen/logrus"
)

// StartProfiling starts CPU profiling into cpuprofile and returns the
// function that stops it and, if memprofile is set, writes a heap profile.
// Empty paths disable the corresponding profile.
//
// Profiles can be inspected with `go tool pprof [binary] [profile_file]`.
func StartProfiling(cpuprofile, memprofile string) (stop func() error, err error) {
	log := logrus.WithField("component", "profiling")

	var cpuFile *os.File
	if cpuprofile != "" {
		cpuFile, err = os.Create(cpuprofile)
		if err != nil {
			return nil, fmt.Errorf("could not create cpu profile file: %w", err)
		}
		if err := pprof.StartCPUProfile(cpuFile); err != nil {
			cpuFile.Close()
			return nil, fmt.Errorf("could not start cpu profile: %w", err)
		}
		log.WithField("path", cpuprofile).Info("CPU profiling started")
	}

	return func() error {
		var errs []error
		if cpuFile != nil {
			pprof.StopCPUProfile()
			errs = append(errs, cpuFile.Close())
		}
		if memprofile != "" {
			errs = append(errs, WriteHeapProfile(memprofile))
			log.WithField("path", memprofile).Info("Heap profile written")
		}
		return errors.Join(errs...)
	}, nil
}

// WriteHeapProfile writes an up-to-date heap profile to path.
func WriteHeapProfile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not create memory profile file: %w", err)
	}
	defer f.Close()

	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("could not write memory profile: %w", err)
	}
	return nil
}

// ServePprof exposes the net/http/pprof handlers on addr until ctx is done.
func ServePprof(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           http.DefaultServeMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logrus.WithField("component", "profiling").Infof("pprof listening on %s", addr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
