package storage

import "fmt"

// Area names. They mirror the three storage tiers a browser offers.
const (
	AreaSession = "session"
	AreaSync    = "sync"
	AreaLocal   = "local"
)

func validArea(name string) error {
	switch name {
	case AreaSession, AreaSync, AreaLocal:
		return nil
	}
	return fmt.Errorf("unknown storage area %q", name)
}
