//go:generate mockgen -destination=mock_interfaces.go -package=mocks github.com/Dea1h/AtlasEngine/internal/kafka ProducerPool
//go:generate mockgen -source=../dispatcher.go -destination=mock_message_handler.go -package=mocks

package mocks
