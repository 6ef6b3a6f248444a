package gae_test

import (
	"context"
	"os"
	"testing"

	"cloud.google.com/go/datastore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/panyam/authgate"
	"github.com/panyam/authgate/stores/gae"
	"github.com/panyam/authgate/stores/storetest"
)

// newClient connects to the Datastore emulator; tests are skipped when it
// is not running (gcloud beta emulators datastore start)
func newClient(t *testing.T) *datastore.Client {
	t.Helper()
	if os.Getenv("DATASTORE_EMULATOR_HOST") == "" {
		t.Skip("DATASTORE_EMULATOR_HOST not set")
	}
	client, err := datastore.NewClient(context.Background(), "authgate-test")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestDirectory(t *testing.T) {
	storetest.RunDirectoryTests(t, func(t *testing.T) authgate.UserDirectory {
		// a fresh namespace keeps runs independent
		return gae.NewDirectory(newClient(t), "t"+uuid.NewString()[:8])
	})
}

func TestChallengeStore(t *testing.T) {
	storetest.RunChallengeStoreTests(t, func(t *testing.T) authgate.ChallengeStore {
		return gae.NewChallengeStore(newClient(t), "t"+uuid.NewString()[:8])
	})
}
