package main

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/maplepay/matcher/internal/domain"
)

// Generates the alias seed file and a batch of sample bank notifications
// for local runs: some cleanly matchable, some ambiguous, some noise.
func main() {
	rng := rand.New(rand.NewSource(42))
	baseDir := findTestdataDir()

	aliases := []domain.Alias{
		{Email: "pay1@maplepay.example", Label: "Scotiabank Main", Active: true, DailyCapMinor: 300000_00, Weight: 3},
		{Email: "pay2@maplepay.example", Label: "TD Secondary", Active: true, DailyCapMinor: 300000_00, Weight: 2},
		{Email: "pay3@maplepay.example", Label: "RBC Overflow", Active: true, DailyCapMinor: 150000_00, Weight: 1},
	}
	writeJSONFile(filepath.Join(baseDir, "aliases.json"), aliases)
	fmt.Printf("Generated %d aliases -> aliases.json\n", len(aliases))

	names := []string{"Jane Doe", "Omar Haddad", "Wei Zhang", "Ana Souza", "Liam Tremblay"}
	var notifications []map[string]string

	for i := 1; i <= 15; i++ {
		name := names[rng.Intn(len(names))]
		amount := float64(rng.Intn(90000)+1000) / 100
		ref := fmt.Sprintf("ORD-%s%02d", strings.ToUpper(randLetters(rng, 4)), i)
		raw := fmt.Sprintf(
			"INTERAC e-Transfer: %s has sent you $%.2f and the money has been automatically deposited.\n"+
				"Message: %s\nReference Number: %s",
			name, amount, ref, randConfirmation(rng))
		notifications = append(notifications, map[string]string{"source": "email", "raw_text": raw})
	}

	// A couple with no reference token, to land in the lower tiers.
	for i := 0; i < 4; i++ {
		name := names[rng.Intn(len(names))]
		amount := float64(rng.Intn(90000)+1000) / 100
		raw := fmt.Sprintf(
			"Auto deposit complete. %s has sent you $%.2f via INTERAC e-Transfer.",
			name, amount)
		notifications = append(notifications, map[string]string{"source": "email", "raw_text": raw})
	}

	// Noise the parser must classify away.
	notifications = append(notifications,
		map[string]string{"source": "email", "raw_text": "Your monthly statement is ready. Sign in to view it."},
		map[string]string{"source": "email", "raw_text": "Security alert: new device signed in to your account."},
	)

	writeJSONFile(filepath.Join(baseDir, "notifications.json"), notifications)
	fmt.Printf("Generated %d notifications -> notifications.json\n", len(notifications))
	fmt.Println("Test data generation complete.")
}

func randLetters(rng *rand.Rand, n int) string {
	const letters = "ABCDEFGHJKMNPQRSTUVWXYZ"
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rng.Intn(len(letters))]
	}
	return string(b)
}

func randConfirmation(rng *rand.Rand) string {
	const chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, 12)
	for i := range b {
		b[i] = chars[rng.Intn(len(chars))]
	}
	return string(b)
}

func findTestdataDir() string {
	candidates := []string{"testdata", filepath.Join("..", "..", "testdata"), "."}
	for _, c := range candidates {
		if st, err := os.Stat(c); err == nil && st.IsDir() {
			if _, err := os.Stat(filepath.Join(c, "generate")); err == nil {
				return c
			}
		}
	}
	return "."
}

func writeJSONFile(path string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		panic(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		panic(err)
	}
}
