package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"sync"

	"github.com/denisbrodbeck/machineid"
)

var (
	hwidOnce sync.Once
	hwid     string
)

// HWID is a stable identifier of this machine, scoped to appID so that it
// does not reveal the raw machine id. It falls back to a hash of the host
// name when the machine id cannot be read.
func HWID(appID string) string {
	hwidOnce.Do(func() {
		id, err := machineid.ProtectedID(appID)
		if err == nil && id != "" {
			hwid = id
			return
		}
		host, _ := os.Hostname()
		sum := sha256.Sum256([]byte(appID + ":" + host))
		hwid = hex.EncodeToString(sum[:])
	})
	return hwid
}
