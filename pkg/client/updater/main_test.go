package updater

import (
	"os"
	"testing"

	"github.com/unbasical/doras-ota/internal/pkg/utils/logutils"
)

func TestMain(m *testing.M) {
	logutils.SetupTestLogging()
	os.Exit(m.Run())
}
