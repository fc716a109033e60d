package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKeyring(t *testing.T) {
	tests := []struct {
		name    string
		active  string
		keys    map[string]string
		wantErr string
	}{
		{name: "valid", active: "k1", keys: map[string]string{"k1": testKey}},
		{name: "several keys", active: "k2", keys: map[string]string{"k1": testKey, "k2": testOtherKey}},
		{name: "missing active id", active: "", keys: map[string]string{"k1": testKey}, wantErr: "active key id is required"},
		{name: "no keys", active: "k1", keys: nil, wantErr: "at least one signing key"},
		{name: "short secret", active: "k1", keys: map[string]string{"k1": "too-short"}, wantErr: "at least 32 bytes"},
		{name: "empty kid", active: "k1", keys: map[string]string{"k1": testKey, "": testOtherKey}, wantErr: "empty key id"},
		{name: "active not in set", active: "k3", keys: map[string]string{"k1": testKey}, wantErr: `active key "k3"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := NewKeyring(tt.active, tt.keys)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, k)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.active, k.ActiveKeyID())
		})
	}
}
