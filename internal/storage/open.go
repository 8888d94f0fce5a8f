package storage

import (
	"fmt"
	"strings"

	logx "tophourbot/pkg/logx"
)

var drivers = map[string]func(Config, logx.Logger) (Store, error){
	"file":    openFile,
	"sqlite":  openSQLite,
	"sqlite3": openSQLite,
}

// Driver normalizes a configured driver name; "" means storage is off.
func Driver(name string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(name))
	if d == "" || d == "none" {
		return "", nil
	}
	if _, ok := drivers[d]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownDriver, name)
	}
	return d, nil
}

// Open initializes the configured store. It returns (nil, nil) when storage
// is off.
func Open(cfg Config, log logx.Logger) (Store, error) {
	d, err := Driver(cfg.Driver)
	if err != nil || d == "" {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return drivers[d](cfg, log)
}
