package injector

import (
	"time"

	"github.com/reiase/probing/internal/discovery"
	"github.com/reiase/probing/internal/proto"
	"github.com/reiase/probing/pkg/client"
)

// endpointWaitTimeout bounds how long the injector waits for a freshly
// injected agent to publish its discovery entry before forwarding
// options.
const endpointWaitTimeout = 5 * time.Second

// sendOptionsViaEndpoint is the default OptionSender: it waits for the
// agent's discovery entry, dials the command endpoint, and issues an
// inject request carrying the option pairs.
func sendOptionsViaEndpoint(pid int, options map[string]string) error {
	deadline := time.Now().Add(endpointWaitTimeout)
	var entry discovery.Entry
	for {
		e, err := discovery.Lookup(pid)
		if err == nil {
			entry = e
			break
		}
		if time.Now().After(deadline) {
			return proto.NewError(proto.ErrTargetUnreachable,
				"agent in %d never published its endpoint: %v", pid, err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	c, err := client.Dial(entry.Endpoint())
	if err != nil {
		return proto.NewError(proto.ErrTargetUnreachable, "dial agent in %d: %v", pid, err)
	}
	defer c.Close()

	pairs := make([]proto.ConfigPair, 0, len(options))
	for k, v := range options {
		pairs = append(pairs, proto.ConfigPair{Key: k, Value: v})
	}
	return c.Inject(pairs)
}
