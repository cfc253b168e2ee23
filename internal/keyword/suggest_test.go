package keyword

import "testing"

func TestEditDistance(t *testing.T) {
	tests := []struct {
		name     string
		a        string
		b        string
		expected int
	}{
		{"identical empty", "", "", 0},
		{"identical word", "heparin", "heparin", 0},
		{"identical unicode", "ß-blocker", "ß-blocker", 0},

		{"empty a", "", "insulin", 7},
		{"empty b", "insulin", "", 7},

		{"one substitution", "cat", "bat", 1},
		{"one insertion", "cat", "cart", 1},
		{"one deletion", "cart", "cat", 1},
		{"kitten to sitting", "kitten", "sitting", 3},

		{"heparin to hepatin", "heparin", "hepatin", 1},
		{"warfarin to warfrin", "warfarin", "warfrin", 1},
		{"metoprolol to metoprolo", "metoprolol", "metoprolo", 1},
		{"transposition costs two", "insulin", "isnulin", 2},

		{"case difference", "Heparin", "heparin", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := editDistance(tt.a, tt.b); got != tt.expected {
				t.Errorf("editDistance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.expected)
			}
			if got := editDistance(tt.b, tt.a); got != tt.expected {
				t.Errorf("editDistance(%q, %q) = %d, want %d (symmetry)", tt.b, tt.a, got, tt.expected)
			}
		})
	}
}
