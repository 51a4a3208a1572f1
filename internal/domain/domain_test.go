package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- TaskDescriptor tests ---

func TestTaskDescriptorValidate(t *testing.T) {
	tests := []struct {
		name    string
		desc    TaskDescriptor
		wantErr bool
	}{
		{name: "valid", desc: TaskDescriptor{Task: "list files", Tools: []string{"filesystem_write"}}},
		{name: "no tools", desc: TaskDescriptor{Task: "say hi"}},
		{name: "empty task", desc: TaskDescriptor{Task: "  "}, wantErr: true},
		{name: "empty tool name", desc: TaskDescriptor{Task: "x", Tools: []string{"a", ""}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.desc.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrValidation))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestToolHistogram(t *testing.T) {
	got := ToolHistogram([]string{"shell", "system_info", "shell", "shell"})
	assert.Equal(t, map[string]int{"shell": 3, "system_info": 1}, got)
	assert.Empty(t, ToolHistogram(nil))
}

func TestTaskResultTerminal(t *testing.T) {
	assert.False(t, TaskPending.Terminal())
	assert.True(t, TaskSuccess.Terminal())
	assert.True(t, TaskFailed.Terminal())
}

// --- Permission tests ---

func TestParsePermissionStatus(t *testing.T) {
	for _, s := range []string{"ALLOWED", "BLOCKED", "ASK"} {
		st, err := ParsePermissionStatus(s)
		require.NoError(t, err)
		assert.Equal(t, PermissionStatus(s), st)
	}

	_, err := ParsePermissionStatus("maybe")
	assert.ErrorIs(t, err, ErrValidation)
}

// --- Session tests ---

func TestSessionApplyDefaults(t *testing.T) {
	s := Session{Title: "Planning"}
	s.ApplyDefaults(DefaultSessionTitle, DefaultSessionModel, DefaultSessionOwner)
	assert.Equal(t, "Planning", s.Title)
	assert.Equal(t, DefaultSessionModel, s.ModelID)
	assert.Equal(t, DefaultSessionOwner, s.OwnerID)
}

func TestSessionApplyDefaultsTrimsTitle(t *testing.T) {
	s := Session{Title: "  Planning \n"}
	s.ApplyDefaults(DefaultSessionTitle, DefaultSessionModel, DefaultSessionOwner)
	assert.Equal(t, "Planning", s.Title)

	blank := Session{Title: "   "}
	blank.ApplyDefaults(DefaultSessionTitle, DefaultSessionModel, DefaultSessionOwner)
	assert.Equal(t, DefaultSessionTitle, blank.Title)
}

func TestTaskDescriptorNormalized(t *testing.T) {
	d := TaskDescriptor{SessionID: " s ", Task: " run ", Tools: []string{" shell", "fs "}}.Normalized()
	assert.Equal(t, TaskDescriptor{SessionID: "s", Task: "run", Tools: []string{"shell", "fs"}}, d)
	assert.Nil(t, TaskDescriptor{Task: "x"}.Normalized().Tools)
	assert.ErrorIs(t, TaskDescriptor{Task: "x", Tools: []string{"  "}}.Normalized().Validate(), ErrValidation)
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleUser.Valid())
	assert.True(t, RoleAssistant.Valid())
	assert.False(t, Role("system").Valid())
}
