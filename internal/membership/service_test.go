package membership

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chitchat/internal/apperr"
	memorystorage "github.com/chitchat/internal/storage/memory"
)

func TestDirectIDCommutative(t *testing.T) {
	svc := NewService(nil, nil, nil, memorystorage.New())
	assert.Equal(t, svc.DirectID("alice", "bob"), svc.DirectID("bob", "alice"))
	assert.Equal(t, "alice_bob", svc.DirectID("bob", "alice"))
}

func TestEnsureDirectRejectsSelf(t *testing.T) {
	svc := NewService(nil, nil, nil, memorystorage.New())
	_, err := svc.EnsureDirect(context.Background(), "alice", "alice")
	assert.True(t, apperr.IsValidation(err))
}

func TestCreateGroupValidation(t *testing.T) {
	svc := NewService(nil, nil, nil, memorystorage.New())

	// Пустое имя после обрезки пробелов.
	_, err := svc.CreateGroup(context.Background(), "alice", "   ", "", []string{"bob"})
	assert.True(t, apperr.IsValidation(err))

	// Группа из одного человека: создатель плюс никого.
	_, err = svc.CreateGroup(context.Background(), "alice", "team", "", nil)
	assert.True(t, apperr.IsValidation(err))

	// Дубликаты и создатель в списке не спасают от одиночества.
	_, err = svc.CreateGroup(context.Background(), "alice", "team", "", []string{"alice", "alice", ""})
	assert.True(t, apperr.IsValidation(err))
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, dedupe([]string{"a", "b", "a", "", "b"}))
	assert.Empty(t, dedupe([]string{"", ""}))
	assert.Empty(t, dedupe(nil))
}
