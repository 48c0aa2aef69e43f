package s3

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebucket/ebucket/internal/storage"
)

func TestNewStore_EmptyEndpoints(t *testing.T) {
	store, err := NewStore(context.Background(), map[int32]string{}, nil, NewDefaultConfig(), "ebucket", nil)
	assert.Error(t, err)
	assert.Nil(t, store)
	assert.Contains(t, err.Error(), "endpoints")
}

func TestConfig_Defaults(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 8, cfg.PoolSize)
}

func TestSession_ObjectKey(t *testing.T) {
	s := &session{namespace: "bucket"}
	assert.Equal(t, "bucket/my-bucket", s.objectKey("my-bucket"))
}

func TestSession_NoGroupsFailsDeterministically(t *testing.T) {
	s := &session{namespace: "bucket", groups: nil}

	_, err := s.Get(context.Background(), "k")
	require.Error(t, err)

	err = s.Put(context.Background(), "k", []byte("v"))
	require.Error(t, err)
}

func TestErrorSession(t *testing.T) {
	sess := storage.NewErrorSession()
	assert.Empty(t, sess.Groups())

	_, err := sess.Get(context.Background(), "k")
	assert.Error(t, err)

	err = sess.Put(context.Background(), "k", []byte("v"))
	assert.Error(t, err)
}
