// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package credentials

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCredential(t *testing.T, clientID, version, secret string, state RotationState) *Credential {
	t.Helper()
	hash, err := HashSecret(secret)
	require.NoError(t, err)
	now := time.Now().UTC()
	return &Credential{
		ClientID:      clientID,
		HashedSecret:  hash,
		Version:       version,
		Active:        true,
		RotationState: state,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func Test_Credential_Acceptable(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		cred Credential
		want bool
	}{
		{
			name: "normal-active",
			cred: Credential{Active: true, RotationState: RotationStateNormal},
			want: true,
		},
		{
			name: "dual-active",
			cred: Credential{Active: true, RotationState: RotationStateDualActive},
			want: true,
		},
		{
			name: "old-deprecated-still-accepted",
			cred: Credential{Active: true, RotationState: RotationStateOldDeprecated},
			want: true,
		},
		{
			name: "initiated-not-yet-advertised",
			cred: Credential{Active: true, RotationState: RotationStateInitiated},
			want: false,
		},
		{
			name: "retired",
			cred: Credential{Active: true, RotationState: RotationStateRetired},
			want: false,
		},
		{
			name: "inactive",
			cred: Credential{Active: false, RotationState: RotationStateNormal},
			want: false,
		},
		{
			name: "expired",
			cred: Credential{Active: true, RotationState: RotationStateNormal, ExpiresAt: &past},
			want: false,
		},
		{
			name: "not-yet-expired",
			cred: Credential{Active: true, RotationState: RotationStateNormal, ExpiresAt: &future},
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cred.Acceptable(now))
		})
	}
}

func Test_Credential_Matches(t *testing.T) {
	t.Parallel()

	c := testCredential(t, "vendor-1", "001", "s3cret", RotationStateNormal)
	assert.True(t, c.Matches("s3cret"))
	assert.False(t, c.Matches("wrong"))
	assert.False(t, c.Matches(""))
}

func Test_Record_Acceptable_ordering(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	rec := &Record{
		ClientID: "vendor-1",
		Credentials: []*Credential{
			testCredential(t, "vendor-1", "00000000000000000001", "old", RotationStateOldDeprecated),
			testCredential(t, "vendor-1", "00000000000000000002", "new", RotationStateDualActive),
		},
	}

	got := rec.Acceptable(now)
	require.Len(t, got, 2)
	assert.Equal(t, "00000000000000000002", got[0].Version, "newest version first")
	assert.Equal(t, "00000000000000000001", got[1].Version)
}

func Test_Record_Check(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		rec     *Record
		wantErr assert.ErrorAssertionFunc
	}{
		{
			name: "valid-single",
			rec: &Record{
				ClientID: "vendor-1",
				Credentials: []*Credential{
					{ClientID: "vendor-1", Version: "001", RotationState: RotationStateNormal},
				},
			},
			wantErr: assert.NoError,
		},
		{
			name: "valid-rotation-window",
			rec: &Record{
				ClientID: "vendor-1",
				Credentials: []*Credential{
					{ClientID: "vendor-1", Version: "001", RotationState: RotationStateOldDeprecated},
					{ClientID: "vendor-1", Version: "002", RotationState: RotationStateDualActive},
				},
			},
			wantErr: assert.NoError,
		},
		{
			name:    "missing-client-id",
			rec:     &Record{},
			wantErr: assert.Error,
		},
		{
			name: "duplicate-version",
			rec: &Record{
				ClientID: "vendor-1",
				Credentials: []*Credential{
					{ClientID: "vendor-1", Version: "001"},
					{ClientID: "vendor-1", Version: "001"},
				},
			},
			wantErr: assert.Error,
		},
		{
			name: "foreign-credential",
			rec: &Record{
				ClientID: "vendor-1",
				Credentials: []*Credential{
					{ClientID: "vendor-2", Version: "001"},
				},
			},
			wantErr: assert.Error,
		},
		{
			name: "too-many-rotating",
			rec: &Record{
				ClientID: "vendor-1",
				Credentials: []*Credential{
					{ClientID: "vendor-1", Version: "001", RotationState: RotationStateDualActive},
					{ClientID: "vendor-1", Version: "002", RotationState: RotationStateDualActive},
					{ClientID: "vendor-1", Version: "003", RotationState: RotationStateOldDeprecated},
				},
			},
			wantErr: assert.Error,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.wantErr(t, tt.rec.Check())
		})
	}
}

func Test_Record_EncodeDecode(t *testing.T) {
	t.Parallel()

	rec := &Record{
		ClientID: "vendor-1",
		Credentials: []*Credential{
			testCredential(t, "vendor-1", "001", "s3cret", RotationStateNormal),
		},
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
	}

	b, err := rec.Encode()
	require.NoError(t, err)

	got, err := DecodeRecord(b)
	require.NoError(t, err)
	assert.Equal(t, rec.ClientID, got.ClientID)
	require.Len(t, got.Credentials, 1)
	assert.True(t, got.Credentials[0].Matches("s3cret"), "hash survives the round trip")

	_, err = DecodeRecord([]byte(`{"client_id":""}`))
	assert.Error(t, err, "decode enforces invariants")
}

func Test_HashSecret_neverStoresPlaintext(t *testing.T) {
	t.Parallel()

	h, err := HashSecret("super-secret")
	require.NoError(t, err)
	assert.NotContains(t, h, "super-secret")

	h2, err := HashSecret("super-secret")
	require.NoError(t, err)
	assert.NotEqual(t, h, h2, "salted hashes differ per call")
}
