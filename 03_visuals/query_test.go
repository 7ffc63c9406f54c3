package visuals

import "testing"

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name        string
		description string
		topic       TopicContext
		want        string
	}{
		{
			name:        "priority terms plus one regular word",
			description: "Aerial view of a mountain trail at sunrise",
			want:        "mountain trail aerial",
		},
		{
			name:        "sub-topic leads and wins over topic",
			description: "Scientists working in a quantum computing laboratory with glowing processors",
			topic:       TopicContext{Topic: "Technology", SubTopic: "Quantum Computing"},
			want:        "quantum computing quantum computing scientists",
		},
		{
			name:        "regular words only",
			description: "Crowded shopping street downtown",
			topic:       TopicContext{Topic: "Economy"},
			want:        "economy crowded shopping",
		},
		{
			name:        "nothing usable falls back to topic",
			description: "An old man",
			topic:       TopicContext{Topic: "Local News"},
			want:        "local news",
		},
		{
			name:        "nothing at all falls back to description",
			description: "The the",
			want:        "The the",
		},
		{
			name:        "capped at five words",
			description: "data server racks",
			topic:       TopicContext{SubTopic: "AI & ML: the future"},
			want:        "ai ml the future data",
		},
		{
			name:        "short tokens and digits dropped",
			description: "5G towers on hills",
			want:        "towers hills",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildQuery(tt.description, tt.topic); got != tt.want {
				t.Fatalf("BuildQuery() = %q, want %q", got, tt.want)
			}
		})
	}
}
