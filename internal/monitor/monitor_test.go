package monitor

import (
	"github.com/indexforge/indexforge/internal/bus"
)

func newTestBus() *bus.Bus {
	return bus.New(0, nil)
}
