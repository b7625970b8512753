package reserver

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aceteam-ai/resque/internal/resque"
)

// Registered reserver names.
const (
	NameQueueOrder       = "queue_order"
	NameRandomQueueOrder = "random_queue_order"
	NameBlockingListPop  = "blocking_list_pop"

	DefaultName = NameQueueOrder
)

// UnknownReserverError is returned for a name no reserver answers to.
type UnknownReserverError struct {
	Name string
}

func (e *UnknownReserverError) Error() string {
	return fmt.Sprintf("unknown reserver '%s'", e.Name)
}

// Factory builds reservers by name.
type Factory struct {
	Resque *resque.Resque
	Logger zerolog.Logger

	// Timeout is passed to blocking reservers. Negative selects DefaultTimeout.
	Timeout time.Duration
}

// Names lists the accepted reserver names.
func Names() []string {
	return []string{NameQueueOrder, NameRandomQueueOrder, NameBlockingListPop}
}

// Normalize lower-cases name and joins its words with underscores. Words
// may be separated by '_', '-' or spaces.
func Normalize(name string) string {
	fields := strings.FieldsFunc(strings.ToLower(strings.TrimSpace(name)), func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})
	return strings.Join(fields, "_")
}

// Create returns the reserver called name.
func (f *Factory) Create(name string, queues []string) (Reserver, error) {
	switch Normalize(name) {
	case NameQueueOrder:
		return NewQueueOrder(f.Resque, queues, f.Logger), nil
	case NameRandomQueueOrder:
		return NewRandomQueueOrder(f.Resque, queues, f.Logger), nil
	case NameBlockingListPop:
		return NewBlockingListPop(f.Resque, queues, f.Timeout, f.Logger), nil
	default:
		return nil, &UnknownReserverError{Name: name}
	}
}

// FromConfig picks a reserver the way the worker settings describe it:
// blocking wins, then an explicit name, then the default.
func (f *Factory) FromConfig(blocking bool, name string, queues []string) (Reserver, error) {
	switch {
	case blocking:
		return f.Create(NameBlockingListPop, queues)
	case name != "":
		return f.Create(name, queues)
	default:
		return f.Create(DefaultName, queues)
	}
}
