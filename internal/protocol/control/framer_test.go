package control

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func frames(out [][]byte) []string {
	s := make([]string, len(out))
	for i, b := range out {
		s[i] = string(b)
	}
	return s
}

func TestSplitMessagesNewlineDelimited(t *testing.T) {
	out := SplitMessages([]byte("{\"method\":\"keepAlive\",\"count\":\"0\"}\n\n{\"method\":\"computeLabel\"}\n"))
	require.Equal(t, []string{`{"method":"keepAlive","count":"0"}`, `{"method":"computeLabel"}`}, frames(out))
}

func TestSplitMessagesUnterminatedCompleteValues(t *testing.T) {
	out := SplitMessages([]byte(`{"method":"keepAlive","count":"0"}{"method":"computeLabel"}`))
	require.Equal(t, []string{`{"method":"keepAlive","count":"0"}`, `{"method":"computeLabel"}`}, frames(out))
}

func TestSplitMessagesIncompleteFragmentIsNotHeld(t *testing.T) {
	out := SplitMessages([]byte("{\"method\":\"keepAlive\",\"count\":\"0\"}\n{\"method\":\"comp"))
	require.Equal(t, []string{`{"method":"keepAlive","count":"0"}`, `{"method":"comp`}, frames(out))

	// the rest of the fragment arriving later is its own candidate
	out = SplitMessages([]byte("uteLabel\"}\n"))
	require.Equal(t, []string{`uteLabel"}`}, frames(out))

	_, err := Unpack([]byte(`{"method":"keepAlive","count":"0"`))
	require.ErrorIs(t, err, ErrInvalidMessage)
}

func TestSplitMessagesGarbage(t *testing.T) {
	out := SplitMessages([]byte(`hello there`))
	require.Equal(t, []string{`hello there`}, frames(out))

	out = SplitMessages([]byte(`{"method":"keepAlive"} oops`))
	require.Equal(t, []string{`{"method":"keepAlive"}`, `oops`}, frames(out))

	require.Empty(t, SplitMessages([]byte(" \n\r\n")))
}
