package cache

import "fmt"

const KeyStats = "stats"

func KeyBus(busID string) string {
	return fmt.Sprintf("bus:%s", busID)
}
