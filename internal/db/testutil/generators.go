// Package testutil provides shared generators for property-based testing.
// String generators are intentionally aggressive to catch encoding and
// quoting edge cases in the stores.
package testutil

import (
	"strings"

	"pgregory.net/rapid"
)

// ArbitraryString generates note text including empty strings, unicode,
// control characters and SQL injection attempts.
func ArbitraryString() *rapid.Generator[string] {
	return rapid.OneOf(
		rapid.String(),
		rapid.Just(""),
		rapid.StringMatching(`[a-zA-Z0-9 ]{0,100}`),
		rapid.StringMatching(`[\x01-\x1F]{1,10}`),
		arbitrarySQLInjection(),
		arbitraryUnicode(),
		arbitraryWhitespace(),
		arbitraryLongString(),
	)
}

// ArbitraryNonEmptyString is like ArbitraryString but never empty.
func ArbitraryNonEmptyString() *rapid.Generator[string] {
	return rapid.OneOf(
		rapid.StringN(1, 100, 200),
		rapid.StringMatching(`[a-zA-Z0-9 ]{1,100}`),
		arbitrarySQLInjection(),
		arbitraryUnicode(),
		arbitraryLongString(),
	)
}

// PersonaID generates persona identifiers in the shapes seen in practice:
// ObjectID hex, UUIDs and short slugs.
func PersonaID() *rapid.Generator[string] {
	return rapid.OneOf(
		rapid.StringMatching(`[0-9a-f]{24}`),
		rapid.StringMatching(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`),
		rapid.StringMatching(`p-[a-z0-9]{1,12}`),
	)
}

func arbitrarySQLInjection() *rapid.Generator[string] {
	return rapid.SampledFrom([]string{
		"'; DROP TABLE notes; --",
		"' OR '1'='1",
		"1; DELETE FROM notes WHERE 1=1",
		"Robert'); DROP TABLE notes;--",
		`" OR ""="`,
		"' UNION SELECT * FROM sqlite_master --",
		"{\"$gt\": \"\"}",
		"$where: 1 == 1",
	})
}

func arbitraryUnicode() *rapid.Generator[string] {
	return rapid.SampledFrom([]string{
		"你好世界",
		"مرحبا بالعالم",
		"שלום עולם",
		"🎉🚀💻🔥",
		"👨‍👩‍👧‍👦",
		"Ĥéľľő Ŵőŕľđ",
		"\u200B\u200C\u200D",
		"\uFEFF",
		"é",
	})
}

func arbitraryWhitespace() *rapid.Generator[string] {
	return rapid.SampledFrom([]string{
		" ",
		"   ",
		"\t",
		"\n",
		"\r\n",
		" \t\n\r ",
	})
}

// arbitraryLongString repeats a short pattern out to a sampled length.
func arbitraryLongString() *rapid.Generator[string] {
	return rapid.Custom(func(t *rapid.T) string {
		length := rapid.SampledFrom([]int{500, 1000, 4096, 20000}).Draw(t, "length")
		pattern := rapid.SampledFrom([]string{"abcdefghij", "note ", "é"}).Draw(t, "pattern")
		repeated := strings.Repeat(pattern, length/len(pattern)+1)
		return repeated[:length-length%len(pattern)]
	})
}
