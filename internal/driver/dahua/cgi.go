package dahua

import (
	"bufio"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/nerrad567/gray-logic-access/internal/driver"
)

// Record tables on the device.
const (
	tableAllowList = "TrafficRedList"
	tableCards     = "AccessControlCard"
)

// parseKV decodes the key=value line format CGI endpoints answer with.
// A body starting with "Error" is a vendor failure.
func parseKV(body []byte) (map[string]string, error) {
	text := strings.TrimSpace(string(body))
	if strings.HasPrefix(text, "Error") {
		return nil, fmt.Errorf("%w: %s", driver.ErrVendorProtocol, strings.ReplaceAll(text, "\r\n", " "))
	}

	kv := make(map[string]string)
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			// Bare "OK" acknowledgements.
			kv[line] = ""
			continue
		}
		kv[k] = v
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading CGI body: %w", driver.ErrVendorProtocol, err)
	}
	return kv, nil
}

// recNos extracts the record numbers from a recordFinder answer, in
// ascending order.
func recNos(kv map[string]string) ([]int, error) {
	var out []int
	for k, v := range kv {
		if !strings.HasPrefix(k, "records[") || !strings.HasSuffix(k, "].RecNo") {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: bad RecNo %q", driver.ErrVendorProtocol, v)
		}
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}

// ackOK reports whether an update/remove answer is the plain "OK".
func ackOK(kv map[string]string) bool {
	_, ok := kv["OK"]
	return ok
}
