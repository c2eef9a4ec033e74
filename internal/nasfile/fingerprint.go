package nasfile

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"syscall"

	"nas-web/internal/filesystem"
)

// HeadBytes is how much file content goes into a fingerprint.
const HeadBytes = 16 << 20

type statPrefix struct {
	AbsPath string `json:"absPath"`
	Size    int64  `json:"size"`
	ModTime int64  `json:"mtimeNs"`
	Mode    uint32 `json:"mode"`
	Inode   uint64 `json:"ino,omitempty"`
	Device  uint64 `json:"dev,omitempty"`
	CTime   int64  `json:"ctimeNs,omitempty"`
}

// Fingerprint hashes the path, its stat record and the first HeadBytes of
// content with SHA-256. Any change to the file's metadata or head changes
// the result.
func Fingerprint(absPath string, retry filesystem.RetryConfig) (string, error) {
	st, err := filesystem.StatWithRetry(absPath, retry)
	if err != nil {
		return "", err
	}

	prefix := statPrefix{
		AbsPath: absPath,
		Size:    st.Size(),
		ModTime: st.ModTime().UnixNano(),
		Mode:    uint32(st.Mode()),
	}
	if sys, ok := st.Sys().(*syscall.Stat_t); ok {
		prefix.Inode = sys.Ino
		prefix.Device = uint64(sys.Dev)
		prefix.CTime = sys.Ctim.Nano()
	}
	head, err := json.Marshal(prefix)
	if err != nil {
		return "", fmt.Errorf("fingerprint prefix: %w", err)
	}

	h, err := filesystem.CopyHead(absPath, HeadBytes, retry, func() hash.Hash {
		h := sha256.New()
		h.Write(head)
		return h
	})
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", absPath, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
