// Package journal persists lifecycle events as an append-only stream of
// msgpack records, for external indexers. The core never reads it back.
package journal

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/service/s3"
	log "github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"perproute/pkg/events"
	"perproute/pkg/s3client"
)

// Record is the envelope written for every event. Payload is the concrete
// event struct.
type Record struct {
	Kind    string       `msgpack:"kind"`
	At      time.Time    `msgpack:"at"`
	Payload events.Event `msgpack:"payload"`
}

// Journal is an events.Emitter that appends length-prefixed msgpack records
// to a local file. Emit never fails the emitting call; write errors are
// logged and the record dropped.
type Journal struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("fail to create journal dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("fail to open journal '%v': %w", path, err)
	}
	return &Journal{f: f, path: path}, nil
}

func (j *Journal) Emit(e events.Event) {
	raw, err := msgpack.Marshal(Record{Kind: e.Kind(), At: time.Now(), Payload: e})
	if err != nil {
		log.Errorf("fail to encode journal record: %v", err)
		return
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(raw)))

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.f.Write(prefix[:]); err != nil {
		log.Errorf("fail to append journal record: %v", err)
		return
	}
	if _, err := j.f.Write(raw); err != nil {
		log.Errorf("fail to append journal record: %v", err)
	}
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

// FlushToS3 uploads the journal file as it stands under a date-keyed path.
func (j *Journal) FlushToS3(s3Client *s3.S3, bucket string) error {
	j.mu.Lock()
	if err := j.f.Sync(); err != nil {
		j.mu.Unlock()
		return fmt.Errorf("fail to sync journal: %w", err)
	}
	body, err := os.ReadFile(j.path)
	j.mu.Unlock()
	if err != nil {
		return fmt.Errorf("fail to read journal: %w", err)
	}

	key := fmt.Sprintf("journal/%s/%s", time.Now().UTC().Format("2006-01-02"), filepath.Base(j.path))
	return s3client.UploadObject(s3Client, bucket, key, body)
}
