package codec

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrBadSubscriptionName = errors.New("unrecognized subscription name")

// SubscriptionName is the structured name given to an upstream event
// subscription:
//
//	<prefix>:<contractAddress>:<poolLocator>:<eventName>[:<poolData>]
//
// Segments are URL-escaped so a locator's query syntax cannot collide with
// the separators. The trailing poolData segment is optional; subscriptions
// created by older deployments do not carry it.
type SubscriptionName struct {
	Address     string
	PoolLocator string
	Event       string
	PoolData    string
}

// PackSubscriptionName renders the structured subscription name.
func PackSubscriptionName(prefix string, name SubscriptionName) string {
	parts := []string{
		prefix,
		url.QueryEscape(name.Address),
		url.QueryEscape(name.PoolLocator),
		url.QueryEscape(name.Event),
		url.QueryEscape(name.PoolData),
	}
	return strings.Join(parts, ":")
}

// UnpackSubscriptionName parses a subscription name, validating the prefix
// and segment count. Anything not matching the recognized shape is rejected.
func UnpackSubscriptionName(prefix, packed string) (SubscriptionName, error) {
	parts := strings.Split(packed, ":")
	if len(parts) < 4 || len(parts) > 5 || parts[0] != prefix {
		return SubscriptionName{}, fmt.Errorf("%w: %s", ErrBadSubscriptionName, packed)
	}

	unescaped := make([]string, 0, len(parts)-1)
	for _, part := range parts[1:] {
		u, err := url.QueryUnescape(part)
		if err != nil {
			return SubscriptionName{}, fmt.Errorf("%w: %s", ErrBadSubscriptionName, packed)
		}
		unescaped = append(unescaped, u)
	}

	name := SubscriptionName{
		Address:     unescaped[0],
		PoolLocator: unescaped[1],
		Event:       unescaped[2],
	}
	if len(unescaped) == 4 {
		name.PoolData = unescaped[3]
	}
	return name, nil
}
