package sender

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ultrazend/relay/internal/dao"
	"github.com/ultrazend/relay/tools"
)

func testValidator(t *testing.T) (*Validator, dao.DAO) {
	t.Helper()
	db, err := dao.NewSQLite(filepath.Join(t.TempDir(), "relay.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	v := New(Config{
		InternalDomains: []string{"ultrazend.com", "mail.ultrazend.com"},
		PlatformDomain:  "ultrazend.com",
	}, db, tools.LoggerCloner(logrus.New()))
	return v, db
}

func TestValidateInternalDomainPasses(t *testing.T) {
	v, _ := testValidator(t)

	res, err := v.Validate(7, "noreply@ultrazend.com")
	require.NoError(t, err)
	assert.Equal(t, "noreply@ultrazend.com", res.From)
	assert.Nil(t, res.Correction)

	// allowlist match is case insensitive
	res, err = v.Validate(7, "ops@Mail.Ultrazend.Com")
	require.NoError(t, err)
	assert.Nil(t, res.Correction)
}

func TestValidateVerifiedDomainPasses(t *testing.T) {
	v, db := testValidator(t)

	now := time.Now()
	require.NoError(t, db.UpsertDomain(dao.DomainRecord{
		TenantId: 7, Domain: "acme.com", Verified: true, VerifiedAt: &now,
	}))

	res, err := v.Validate(7, "billing@acme.com")
	require.NoError(t, err)
	assert.Equal(t, "billing@acme.com", res.From)
	assert.Nil(t, res.Correction)
}

func TestValidateUnknownDomainRewrites(t *testing.T) {
	v, _ := testValidator(t)

	res, err := v.Validate(7, "someone@unverified.com")
	require.NoError(t, err)
	assert.Equal(t, "noreply+user7@ultrazend.com", res.From)
	require.NotNil(t, res.Correction)
	assert.Equal(t, "someone@unverified.com", res.Correction.Original)
	assert.Equal(t, "noreply+user7@ultrazend.com", res.Correction.Corrected)
	assert.NotEmpty(t, res.Correction.Reason)
}

func TestValidateUnverifiedDomainRewrites(t *testing.T) {
	v, db := testValidator(t)

	require.NoError(t, db.UpsertDomain(dao.DomainRecord{
		TenantId: 7, Domain: "acme.com", Verified: false,
	}))

	res, err := v.Validate(7, "billing@acme.com")
	require.NoError(t, err)
	assert.Equal(t, "noreply+user7@ultrazend.com", res.From)
	require.NotNil(t, res.Correction)
	assert.Contains(t, res.Correction.Reason, "not verified")
}

func TestValidateDomainOwnedByOtherTenant(t *testing.T) {
	v, db := testValidator(t)

	now := time.Now()
	require.NoError(t, db.UpsertDomain(dao.DomainRecord{
		TenantId: 99, Domain: "acme.com", Verified: true, VerifiedAt: &now,
	}))

	res, err := v.Validate(7, "billing@acme.com")
	require.NoError(t, err)
	require.NotNil(t, res.Correction, "verification does not carry across tenants")
}

func TestValidateMalformedSender(t *testing.T) {
	v, _ := testValidator(t)

	for _, from := range []string{"nodomain", "user@", "user@no dot", "user@localhost"} {
		_, err := v.Validate(7, from)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr, from)
	}
}

func TestValidateBatch(t *testing.T) {
	v, db := testValidator(t)

	now := time.Now()
	require.NoError(t, db.UpsertDomain(dao.DomainRecord{
		TenantId: 7, Domain: "acme.com", Verified: true, VerifiedAt: &now,
	}))

	items := v.ValidateBatch(7, []string{
		"ok@acme.com",
		"rewrite-me@unverified.com",
		"broken@",
		"also-ok@acme.com",
	})
	require.Len(t, items, 4)

	assert.NoError(t, items[0].Err)
	assert.Nil(t, items[0].Result.Correction)

	assert.NoError(t, items[1].Err)
	assert.NotNil(t, items[1].Result.Correction)

	var verr *ValidationError
	assert.ErrorAs(t, items[2].Err, &verr, "a malformed item fails only its own index")
	assert.Equal(t, 2, items[2].Index)

	assert.NoError(t, items[3].Err)
	assert.Nil(t, items[3].Result.Correction)
}
