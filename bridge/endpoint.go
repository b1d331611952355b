package bridge

import (
	"regexp"
	"strconv"

	"github.com/pkg/errors"
)

var endpointMatcher = regexp.MustCompile(`(.*)\:([0-9]{1,5})-?([0-9]{1,5})?`)

// parseEndpoint validates a configured "host:port" listen address.
//
// It is derived from kcptun's port-range parser, but the bridge listens on
// exactly one endpoint at a time (no multi-client fan-out, per spec), so a
// "host:minport-maxport" range is rejected instead of expanded.
func parseEndpoint(addr string) (string, error) {
	matches := endpointMatcher.FindStringSubmatch(addr)
	if len(matches) < 3 {
		return "", errors.Errorf("malformed endpoint: %v", addr)
	}

	minPort, err := strconv.Atoi(matches[2])
	if err != nil {
		return "", errors.Wrap(err, "parseEndpoint()")
	}

	if matches[3] != "" {
		return "", errors.Errorf("port ranges are not supported, single listener only: %v", addr)
	}

	if minPort == 0 || minPort > 65535 {
		return "", errors.Errorf("invalid port: %v", minPort)
	}

	return addr, nil
}
