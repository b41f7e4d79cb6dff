package plexus

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"testing"

	"github.com/mosaicnetworks/plexus/src/common"
	"github.com/mosaicnetworks/plexus/src/config"
	"github.com/mosaicnetworks/plexus/src/crypto/keys"
	"github.com/mosaicnetworks/plexus/src/peers"
)

func TestInitKey(t *testing.T) {
	os.RemoveAll("test_data")
	os.Mkdir("test_data", os.ModeDir|0777)
	defer os.RemoveAll("test_data")

	conf := config.NewTestConfig(t, common.TestLogLevel)
	conf.SetDataDir("test_data")

	engine := NewPlexus(conf)

	if err := engine.initKey(); err != nil {
		t.Fatalf("err: %v", err)
	}

	//A second engine on the same datadir must read the key generated by the
	//first one and come up with the same identity.
	conf2 := config.NewTestConfig(t, common.TestLogLevel)
	conf2.SetDataDir("test_data")

	engine2 := NewPlexus(conf2)

	if err := engine2.initKey(); err != nil {
		t.Fatalf("err: %v", err)
	}

	if engine.identity.ID() != engine2.identity.ID() {
		t.Fatalf("identities should match: %s, %s",
			engine.identity.ID(),
			engine2.identity.ID())
	}
}

func TestKeygenRefusesOverwrite(t *testing.T) {
	os.RemoveAll("test_data")
	os.Mkdir("test_data", os.ModeDir|0777)
	defer os.RemoveAll("test_data")

	if _, err := Keygen("test_data"); err != nil {
		t.Fatalf("err: %v", err)
	}

	if _, err := Keygen("test_data"); err == nil {
		t.Fatal("Keygen should refuse to overwrite an existing key")
	}
}

func TestInitBootstrap(t *testing.T) {
	os.RemoveAll("test_data")
	os.Mkdir("test_data", os.ModeDir|0777)
	defer os.RemoveAll("test_data")

	peerSlice := []*peers.Peer{}
	for i := 0; i < 3; i++ {
		key, err := keys.GenerateECDSAKey()
		if err != nil {
			t.Fatalf("err: %v", err)
		}

		id := peers.NewID(&key.PublicKey)

		addr, err := peers.ParseMultiaddr(fmt.Sprintf("/ip4/127.0.0.1/tcp/%d", 64100+i))
		if err != nil {
			t.Fatalf("err: %v", err)
		}

		peerSlice = append(peerSlice, peers.NewPeer(id, addr))
	}

	jsonPeerSet := peers.NewJSONPeerSet("test_data")

	if err := jsonPeerSet.Write(peers.NewPeerSet(peerSlice)); err != nil {
		t.Fatalf("err: %v", err)
	}

	conf := config.NewTestConfig(t, common.TestLogLevel)
	conf.SetDataDir("test_data")

	engine := NewPlexus(conf)

	if err := engine.initBootstrap(); err != nil {
		t.Fatalf("err: %v", err)
	}

	if engine.Bootstrap.Len() != 3 {
		t.Fatalf("bootstrap set should have 3 peers, not %d", engine.Bootstrap.Len())
	}

	for _, p := range peerSlice {
		if _, ok := engine.Bootstrap.Get(p.ID); !ok {
			t.Fatalf("bootstrap set should contain %s", p.ID)
		}
	}
}

func TestInitBootstrapMissingFile(t *testing.T) {
	os.RemoveAll("test_data")
	os.Mkdir("test_data", os.ModeDir|0777)
	defer os.RemoveAll("test_data")

	conf := config.NewTestConfig(t, common.TestLogLevel)
	conf.SetDataDir("test_data")

	engine := NewPlexus(conf)

	if err := engine.initBootstrap(); err != nil {
		t.Fatalf("err: %v", err)
	}

	if engine.Bootstrap.Len() != 0 {
		t.Fatalf("bootstrap set should be empty, not %d", engine.Bootstrap.Len())
	}
}

func TestInitBootstrapBadEntry(t *testing.T) {
	os.RemoveAll("test_data")
	os.Mkdir("test_data", os.ModeDir|0777)
	defer os.RemoveAll("test_data")

	key, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	//The second address carries no identity, which makes it unusable for
	//bootstrapping; the whole set must be refused.
	raw, err := json.Marshal([]string{
		fmt.Sprintf("/ip4/127.0.0.1/tcp/64100/p2p/%s", peers.NewID(&key.PublicKey)),
		"/ip4/127.0.0.1/tcp/64101",
	})
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if err := ioutil.WriteFile("test_data/bootstrap.json", raw, 0644); err != nil {
		t.Fatalf("err: %v", err)
	}

	conf := config.NewTestConfig(t, common.TestLogLevel)
	conf.SetDataDir("test_data")

	engine := NewPlexus(conf)

	if err := engine.initBootstrap(); err == nil {
		t.Fatal("initBootstrap should fail on an entry without identity")
	}
}
