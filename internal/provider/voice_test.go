package provider

import (
	"testing"

	"podflow/internal/types"
)

func TestApplyVoice_NilParamsIsIdentity(t *testing.T) {
	if got := ApplyVoice("solid write-up", nil); got != "solid write-up" {
		t.Errorf("expected identity transform, got %q", got)
	}
}

func TestApplyVoice(t *testing.T) {
	cases := []struct {
		name   string
		text   string
		params *types.VoiceParams
		want   string
	}{
		{
			name:   "tone prefix",
			text:   "this changed how I think about outreach",
			params: &types.VoiceParams{Tone: "enthusiastic"},
			want:   "Love this! this changed how I think about outreach",
		},
		{
			name:   "unknown tone ignored",
			text:   "interesting take",
			params: &types.VoiceParams{Tone: "sarcastic"},
			want:   "interesting take",
		},
		{
			name:   "emoji suffix",
			text:   "congrats on the launch",
			params: &types.VoiceParams{Emoji: "🎉"},
			want:   "congrats on the launch 🎉",
		},
		{
			name:   "banned word replaced case-insensitively",
			text:   "This is a Cheap way to grow",
			params: &types.VoiceParams{BannedWords: map[string]string{"cheap": "affordable"}},
			want:   "This is a affordable way to grow",
		},
		{
			name:   "banned word not replaced inside larger word",
			text:   "cheapest option available",
			params: &types.VoiceParams{BannedWords: map[string]string{"cheap": "affordable"}},
			want:   "cheapest option available",
		},
		{
			name: "all transforms combined",
			text: "a cheap trick",
			params: &types.VoiceParams{
				Tone:        "supportive",
				Emoji:       "👏",
				BannedWords: map[string]string{"cheap": "clever"},
			},
			want: "Well said! a clever trick 👏",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ApplyVoice(tc.text, tc.params); got != tc.want {
				t.Errorf("ApplyVoice(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}

func TestApplyVoice_PureOnRetry(t *testing.T) {
	params := &types.VoiceParams{Tone: "professional", Emoji: "💡"}
	first := ApplyVoice("good point", params)
	second := ApplyVoice("good point", params)
	if first != second {
		t.Errorf("transform not stable across retries: %q vs %q", first, second)
	}
}
