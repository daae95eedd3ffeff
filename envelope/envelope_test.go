package envelope

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const creator = "0xcccccccccccccccccccccccccccccccccccccccc"

func deedFields() Fields {
	return Fields{
		Name:        "Land Title 42",
		Description: "Parcel 42, survey ref LT-0042, south boundary revised",
		Attributes: []Attribute{
			{TraitType: "jurisdiction", Value: "VN-SG"},
			{TraitType: "parcel_no", Value: "0042"},
		},
	}
}

func TestBuildPlainEnvelope(t *testing.T) {
	env, key, err := Build(deedFields(), nil, "", creator, SecurityMode{Mode: ModeNone})
	require.NoError(t, err)
	assert.Nil(t, key)
	assert.Equal(t, ModeNone, env.Security.Mode)
	assert.Equal(t, "Land Title 42", env.Name)
	assert.NotZero(t, env.CreatedAt)
	assert.NotNil(t, env.Files, "wire format keeps files as an array")
}

func TestEncryptedRoundTrip(t *testing.T) {
	env, key, err := Build(deedFields(), nil, "", creator, SecurityMode{
		Mode:   ModeEncrypted,
		Fields: []string{"description"},
	})
	require.NoError(t, err)
	require.NotNil(t, key)

	// The persisted document carries only the placeholder and the
	// opaque payload, never the plaintext or the key.
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "survey ref LT-0042")
	assert.NotContains(t, string(raw), key.Export())
	assert.Equal(t, Placeholder, env.Description)
	assert.Equal(t, Algorithm, env.Security.Algorithm)

	var reread Envelope
	require.NoError(t, json.Unmarshal(raw, &reread))

	opened, err := Open(&reread, key)
	require.NoError(t, err)
	assert.Empty(t, opened.Locked)
	assert.Equal(t, "Parcel 42, survey ref LT-0042, south boundary revised", opened.Fields.Description)
	assert.Equal(t, "Land Title 42", opened.Fields.Name)
}

func TestOpenWithWrongKeyLocksFieldOnly(t *testing.T) {
	env, _, err := Build(deedFields(), nil, "", creator, SecurityMode{
		Mode:   ModeEncrypted,
		Fields: []string{"description"},
	})
	require.NoError(t, err)

	wrong, err := NewKey()
	require.NoError(t, err)

	opened, err := Open(env, wrong)
	require.NoError(t, err, "a wrong key must not fail the whole read")
	require.Contains(t, opened.Locked, "description")
	assert.ErrorIs(t, opened.Locked["description"], ErrDecryptionFailed)

	// Plaintext fields stay readable around the locked one.
	assert.Equal(t, "Land Title 42", opened.Fields.Name)
	assert.Equal(t, Placeholder, opened.Fields.Description)
}

func TestOpenWithoutKeyLocksEncryptedFields(t *testing.T) {
	env, _, err := Build(deedFields(), nil, "", creator, SecurityMode{
		Mode:   ModeEncrypted,
		Fields: []string{"description", "parcel_no"},
	})
	require.NoError(t, err)

	opened, err := Open(env, nil)
	require.NoError(t, err)
	assert.Len(t, opened.Locked, 2)
	assert.ErrorIs(t, opened.Locked["description"], ErrDecryptionFailed)
}

func TestEncryptAttributeByTraitName(t *testing.T) {
	env, key, err := Build(deedFields(), nil, "", creator, SecurityMode{
		Mode:   ModeEncrypted,
		Fields: []string{"parcel_no"},
	})
	require.NoError(t, err)

	for _, att := range env.Attributes {
		if att.TraitType == "parcel_no" {
			assert.Equal(t, Placeholder, att.Value)
		}
	}

	opened, err := Open(env, key)
	require.NoError(t, err)
	var got string
	for _, att := range opened.Fields.Attributes {
		if att.TraitType == "parcel_no" {
			got = att.Value
		}
	}
	assert.Equal(t, "0042", got)
}

func TestBuildEncryptedUnknownField(t *testing.T) {
	_, _, err := Build(deedFields(), nil, "", creator, SecurityMode{
		Mode:   ModeEncrypted,
		Fields: []string{"no_such_field"},
	})
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestHashOnlyDropsPlaintext(t *testing.T) {
	env, key, err := Build(deedFields(), nil, "", creator, SecurityMode{
		Mode:   ModeHashOnly,
		Fields: []string{"description"},
	})
	require.NoError(t, err)
	assert.Nil(t, key)

	assert.Empty(t, env.Description, "hash-only never persists the sensitive plaintext")
	assert.True(t, strings.HasPrefix(env.Security.Digest, "0x"))
	assert.Len(t, env.Security.Digest, 2+64)

	// Same content, same digest: supports later proof-of-content checks.
	env2, _, err := Build(deedFields(), nil, "", creator, SecurityMode{
		Mode:   ModeHashOnly,
		Fields: []string{"description"},
	})
	require.NoError(t, err)
	assert.Equal(t, env.Security.Digest, env2.Security.Digest)
}

func TestRepeatedFieldNamesCollapse(t *testing.T) {
	env, key, err := Build(deedFields(), nil, "", creator, SecurityMode{
		Mode:   ModeEncrypted,
		Fields: []string{"description", "description"},
	})
	require.NoError(t, err)
	require.NotNil(t, key)

	// The second mention must not re-seal the placeholder over the
	// real ciphertext.
	assert.Equal(t, []string{"description"}, env.Security.Fields)
	assert.Len(t, env.Security.Payloads, 1)

	opened, err := Open(env, key)
	require.NoError(t, err)
	assert.Empty(t, opened.Locked)
	assert.Equal(t, deedFields().Description, opened.Fields.Description)

	// Hash-only digests stay comparable whether or not the caller
	// repeated a name.
	single, _, err := Build(deedFields(), nil, "", creator, SecurityMode{
		Mode:   ModeHashOnly,
		Fields: []string{"description"},
	})
	require.NoError(t, err)
	doubled, _, err := Build(deedFields(), nil, "", creator, SecurityMode{
		Mode:   ModeHashOnly,
		Fields: []string{"description", "description"},
	})
	require.NoError(t, err)
	assert.Equal(t, single.Security.Digest, doubled.Security.Digest)
}

func TestNoncesNeverRepeat(t *testing.T) {
	env, _, err := Build(deedFields(), nil, "", creator, SecurityMode{
		Mode:   ModeEncrypted,
		Fields: []string{"name", "description"},
	})
	require.NoError(t, err)

	seen := map[string]bool{}
	for field, payload := range env.Security.Payloads {
		assert.False(t, seen[payload.Nonce], "nonce reused on field %s", field)
		seen[payload.Nonce] = true
	}
}

func TestKeyHasNoSerializedForm(t *testing.T) {
	key, err := NewKey()
	require.NoError(t, err)

	_, err = json.Marshal(key)
	assert.Error(t, err, "a key must never survive a marshal")

	assert.Equal(t, "envelope-key(redacted)", key.String())
	assert.NotContains(t, key.String(), key.Export())

	parsed, err := ParseKey(key.Export())
	require.NoError(t, err)
	assert.Equal(t, key.Export(), parsed.Export())
}

func TestParseKeyRejectsGarbage(t *testing.T) {
	_, err := ParseKey("not base64!!")
	assert.Error(t, err)

	_, err = ParseKey("c2hvcnQ=")
	assert.Error(t, err)
}
