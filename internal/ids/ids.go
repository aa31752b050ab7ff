// Package ids provides the ObjectID value type used for scratch directory
// names and fork-server request correlation, plus worker identity strings.
package ids

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// ObjectID is a 12-byte, 24-lowercase-hex-character identifier: a 4-byte
// big-endian unix timestamp, a 5-byte random machine/process tag, and a
// 3-byte incrementing counter. Two ObjectIDs compare equal iff their byte
// representations match.
type ObjectID [12]byte

var (
	machineTag  [5]byte
	counter     uint32
	machineOnce sync.Once
)

func initMachineTag() {
	if _, err := rand.Read(machineTag[:]); err != nil {
		hostname, _ := os.Hostname()
		copy(machineTag[:], hostname)
	}
	var seed [4]byte
	rand.Read(seed[:])
	counter = binary.BigEndian.Uint32(seed[:])
}

// NewObjectID generates a fresh ObjectID from the current time.
func NewObjectID() ObjectID {
	machineOnce.Do(initMachineTag)
	var id ObjectID
	binary.BigEndian.PutUint32(id[0:4], uint32(time.Now().Unix()))
	copy(id[4:9], machineTag[:])
	c := atomic.AddUint32(&counter, 1)
	id[9] = byte(c >> 16)
	id[10] = byte(c >> 8)
	id[11] = byte(c)
	return id
}

// ParseObjectID decodes a 24-character lowercase hex string into an ObjectID.
func ParseObjectID(s string) (ObjectID, error) {
	var id ObjectID
	if len(s) != 24 {
		return id, fmt.Errorf("ids: object id %q must be 24 hex characters", s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("ids: object id %q is not valid hex: %w", s, err)
	}
	copy(id[:], b)
	return id, nil
}

func (id ObjectID) String() string {
	return hex.EncodeToString(id[:])
}

// NewWorkerID builds a unique worker identity based on hostname, pid, and a
// random suffix.
func NewWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), randomHex(6))
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		for i := range b {
			b[i] = byte(i + 1)
		}
	}
	return hex.EncodeToString(b)
}
