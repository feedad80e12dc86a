package events

//go:generate mockgen -destination=mocks/mock_bus.go -package=mocks github.com/Dea1h/AtlasEngine/internal/events Bus
