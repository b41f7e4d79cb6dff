package keys

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"io/ioutil"
	"os"
	"strings"
	"sync"
)

// SimpleKeyfile stores a private key as a hex string in a plain file. It is
// the only place a Plexus private key ever touches disk.
type SimpleKeyfile struct {
	l    sync.Mutex
	path string
}

// NewSimpleKeyfile instantiates a SimpleKeyfile for a given file path.
func NewSimpleKeyfile(path string) *SimpleKeyfile {
	return &SimpleKeyfile{path: path}
}

// ReadKey reads and parses the keyfile. It refuses to use a keyfile that is
// accessible to other users.
func (k *SimpleKeyfile) ReadKey() (*ecdsa.PrivateKey, error) {
	k.l.Lock()
	defer k.l.Unlock()

	info, err := os.Stat(k.path)
	if err != nil {
		return nil, err
	}
	if info.Mode().Perm()&0077 != 0 {
		return nil, fmt.Errorf("keyfile %s has permissions %#o, want %#o", k.path, info.Mode().Perm(), 0600)
	}

	buf, err := ioutil.ReadFile(k.path)
	if err != nil {
		return nil, err
	}

	return parseKeyBuf(buf)
}

// WriteKey dumps the private key to the keyfile, readable only by the owner.
func (k *SimpleKeyfile) WriteKey(key *ecdsa.PrivateKey) error {
	k.l.Lock()
	defer k.l.Unlock()

	return ioutil.WriteFile(k.path, []byte(DumpPrivateKey(key)), 0600)
}

func parseKeyBuf(buf []byte) (*ecdsa.PrivateKey, error) {
	rawKey, err := hex.DecodeString(strings.TrimSpace(string(buf)))
	if err != nil {
		return nil, fmt.Errorf("decoding keyfile: %v", err)
	}
	return ParsePrivateKey(rawKey)
}
