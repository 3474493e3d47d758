package faults

import (
	"errors"
	"fmt"
	"testing"
)

func TestCategoryOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Category
	}{
		{"categorized", New(Input, nil, "missing file"), Input},
		{"wrapped", fmt.Errorf("task: %w", New(ProviderPermanent, nil, "quota")), ProviderPermanent},
		{"uncategorized defaults to transient", errors.New("connection reset"), ProviderTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CategoryOf(tc.err); got != tc.want {
				t.Errorf("CategoryOf = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(errors.New("dial tcp: timeout")) {
		t.Error("unknown errors must stay retryable")
	}
	if Retryable(New(Config, nil, "no api key")) {
		t.Error("config errors must not be retried")
	}
}

func TestUserMessageHidesInternals(t *testing.T) {
	cause := errors.New("http 500: internal stack trace")
	err := New(ProviderTransient, cause, "Transcription provider is temporarily unavailable.")
	if got := UserMessage(err); got != "Transcription provider is temporarily unavailable." {
		t.Errorf("UserMessage = %q", got)
	}
	if got := UserMessage(cause); got != "An unexpected error occurred during transcription." {
		t.Errorf("UserMessage for raw error = %q", got)
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := New(Media, cause, "extraction failed")
	if !errors.Is(err, cause) {
		t.Error("wrapped cause must survive errors.Is")
	}
}
