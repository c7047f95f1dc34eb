package dig_container

import (
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/homework/core"
	"github.com/trezcool/homework/core/identity"
	"github.com/trezcool/homework/core/profile"
	"github.com/trezcool/homework/core/session"
	localidentity "github.com/trezcool/homework/services/identity/local"
	"github.com/trezcool/homework/services/identity/supabase"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		wantLocal  bool
		configured bool
	}{
		{name: "local", url: "local://", wantLocal: true, configured: true},
		{name: "hosted", url: "https://homework.supabase.co", configured: true},
		{name: "placeholder", url: "https://placeholder.supabase.co"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ENV", "TEST")
			t.Setenv("TEST_IDENTITY_URL", tt.url)
			t.Setenv("TEST_IDENTITY_ANONKEY", "anon-key")
			t.Setenv("TEST_DATABASE_HOST", "")

			c := New()
			err := c.Invoke(func(conf *core.Config, client identity.Client, repo profile.Repository, db *sql.DB, boot *session.Bootstrapper) {
				assert.Equal(t, tt.configured, conf.Identity.IsConfigured())
				assert.Nil(t, db)

				_, isLocal := client.(*localidentity.Service)
				assert.Equal(t, tt.wantLocal, isLocal)
				if tt.wantLocal {
					assert.Equal(t, "*inmemdb.profileRepository", typeName(repo))
				} else {
					assert.IsType(t, &supabase.ProfileRepository{}, repo)
				}
				assert.Equal(t, session.StatusInitializing, boot.State().Status())
			})
			require.NoError(t, err)
		})
	}
}

func typeName(v interface{}) string {
	return fmt.Sprintf("%T", v)
}
