package mqtt

import (
	"errors"
	"testing"
)

func TestTopics(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{Topics{}.AccessEvent("dev-1"), "graylogic/core/access/dev-1"},
		{Topics{}.AllAccessEvents(), "graylogic/core/access/+"},
		{Topics{}.CredentialChanged("c-9"), "graylogic/core/credential/c-9/changed"},
		{Topics{}.AllCredentialChanges(), "graylogic/core/credential/+/changed"},
		{Topics{}.CoreEvent("livesync_completed"), "graylogic/core/event/livesync_completed"},
		{Topics{}.SystemStatus(), "graylogic/system/status"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestCredentialIDFromTopic(t *testing.T) {
	tests := []struct {
		topic   string
		want    string
		wantErr bool
	}{
		{"graylogic/core/credential/c-9/changed", "c-9", false},
		{Topics{}.CredentialChanged("abc"), "abc", false},
		{"graylogic/core/credential//changed", "", true},
		{"graylogic/core/credential/a/b/changed", "", true},
		{"graylogic/core/access/dev-1", "", true},
		{"graylogic/core/credential/c-9", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, err := CredentialIDFromTopic(tt.topic)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTopicShape) {
					t.Errorf("error = %v, want ErrInvalidTopicShape", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("CredentialIDFromTopic() = %q, %v; want %q", got, err, tt.want)
			}
		})
	}
}
