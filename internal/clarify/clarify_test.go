package clarify

import (
	"reflect"
	"testing"

	"github.com/gzhole/replyshield/internal/messages"
)

func TestNext(t *testing.T) {
	tests := []struct {
		name      string
		missing   []string
		asked     []string
		wantField string
		wantOK    bool
	}{
		{"order before phone", []string{FieldPhoneLast4, FieldOrderNumber}, nil, FieldOrderNumber, true},
		{"disambiguation first", []string{FieldOrderNumber, FieldIdentifierType}, nil, FieldIdentifierType, true},
		{"skip already asked", []string{FieldOrderNumber, FieldPhoneLast4}, []string{FieldOrderNumber}, FieldPhoneLast4, true},
		{"all asked", []string{FieldOrderNumber}, []string{FieldOrderNumber}, "", false},
		{"nothing missing", nil, nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			field, key, ok := Next(tt.missing, tt.asked)
			if field != tt.wantField || ok != tt.wantOK {
				t.Errorf("Next() = (%q, %v), want (%q, %v)", field, ok, tt.wantField, tt.wantOK)
			}
			if ok && key == "" {
				t.Error("expected a message key for the chosen field")
			}
		})
	}
}

func TestNext_Keys(t *testing.T) {
	_, key, _ := Next([]string{FieldOrderNumber}, nil)
	if key != messages.KeyAskOrderNumber {
		t.Errorf("expected %q, got %q", messages.KeyAskOrderNumber, key)
	}
}

func TestSort(t *testing.T) {
	got := Sort([]string{FieldPhone, "bogus", FieldOrderNumber, FieldOrderNumber})
	want := []string{FieldOrderNumber, FieldPhone}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Sort() = %v, want %v", got, want)
	}
}

func TestQuestion_HandOff(t *testing.T) {
	field, key := Question([]string{FieldName, FieldPhone}, []string{FieldName})
	if field != FieldPhone || key != messages.KeyAskPhone {
		t.Errorf("expected phone question, got (%q, %q)", field, key)
	}

	field, key = Question([]string{FieldName}, []string{FieldName})
	if field != "" || key != messages.KeyNotFoundHandoff {
		t.Errorf("expected hand-off, got (%q, %q)", field, key)
	}
}
