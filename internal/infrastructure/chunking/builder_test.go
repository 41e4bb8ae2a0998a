package chunking

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/evidence-engine/internal/core/domain"
)

const bookText = `SPIRITUAL DISEASES OF THE HEART
An introduction that carries no evidence at all.

Chapter 1: ANGER
Symptoms:
Raising the voice, losing control and harming others
with words.
Evidence from the Quran:
"Those who restrain anger and pardon the people, and Allah loves the doers of good." [Al-Imran 3:134]
Evidence from Hadith:
"The strong man is not the one who wrestles, but the strong man is the one who controls himself in anger." [Sahih al-Bukhari 6114]

12

Chapter 2
EN
VY
Signs:
Wishing that a blessing be removed from another person.
Evidence:
"Beware of envy, for envy consumes good deeds just as fire consumes wood or dry grass." [Sunan Abi Dawud 4903]

Chapter 3 - PRIDE
Description: Rejecting the truth and looking down on people.
Evidence: "No one who has an atom's weight of arrogance in his heart will ever enter Paradise." [Sahih Muslim 91]
Statements of the Scholars:
"Pride is the first sin by which Allah was disobeyed, so beware of it in all its forms." [Ibn al-Qayyim]

Chapter 4: GREED
Evidence:
"Greed is a poverty." [Scholar]
`

func newTestBuilder() *Builder {
	return NewBuilder(Config{})
}

func TestParseBuildsOneChunkPerSection(t *testing.T) {
	chunks, err := newTestBuilder().Parse(bookText, "diseases.pdf")
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	topics := []string{chunks[0].Topic, chunks[1].Topic, chunks[2].Topic}
	assert.Equal(t, []string{"Anger", "Envy", "Pride"}, topics)

	anger := chunks[0]
	assert.Equal(t, "diseases.pdf", anger.SourceFile)
	assert.Equal(t, 0, anger.ChunkIndex)
	assert.Equal(t, ChunkID("diseases.pdf", 0), anger.ID)
	require.Len(t, anger.Evidence, 2)
	assert.Equal(t, domain.CategoryScripture, anger.Evidence[0].Category)
	assert.Equal(t, "Al-Imran 3:134", anger.Evidence[0].Reference)
	assert.Equal(t, domain.CategoryTradition, anger.Evidence[1].Category)
	assert.Equal(t, "diseases.pdf#0", anger.Evidence[0].Locator)
	assert.Contains(t, anger.SearchText, "Raising the voice, losing control and harming others with words.")
	assert.Contains(t, anger.SearchText, "how to deal with anger")
	assert.NotContains(t, anger.SearchText, "restrain anger")

	pride := chunks[2]
	require.Len(t, pride.Evidence, 2)
	assert.Equal(t, domain.CategoryScholar, pride.Evidence[1].Category)
	assert.Contains(t, pride.SearchText, "Rejecting the truth")
}

func TestParseDropsShortEvidence(t *testing.T) {
	chunks, err := newTestBuilder().Parse(bookText, "diseases.pdf")
	require.NoError(t, err)
	for _, c := range chunks {
		assert.NotEqual(t, "Greed", c.Topic)
		assert.GreaterOrEqual(t, len([]rune(c.EvidenceText)), DefaultMinEvidenceChars)
	}
}

func TestParseRecoversUnmarkedSections(t *testing.T) {
	text := `ANGER
Symptoms: shouting at family members and regretting it afterwards.
Evidence: "Those who restrain anger and pardon the people, and Allah loves the doers of good." [Al-Imran 3:134]

PRIDE
Description: looking down on others.
Evidence: "No one who has an atom's weight of arrogance in his heart will ever enter Paradise." [Sahih Muslim 91]
`
	chunks, err := newTestBuilder().Parse(text, "notes.txt")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "Anger", chunks[0].Topic)
	assert.Equal(t, "Pride", chunks[1].Topic)
	assert.Equal(t, 1, chunks[1].ChunkIndex)
}

func TestParseKeepsRawEvidenceWhenParsingYieldsTooLittle(t *testing.T) {
	text := `Chapter 1: LONELINESS
Symptoms: withdrawing from people.
Evidence:
The scholars explained that companionship with righteous people softens the heart,
and that isolation without purpose leaves a person exposed to whispering and despair.
`
	chunks, err := newTestBuilder().Parse(text, "raw.txt")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Empty(t, chunks[0].Evidence)
	assert.True(t, strings.HasPrefix(chunks[0].EvidenceText, "Evidence:\nThe scholars explained"))
}

func TestParseEmptyDocument(t *testing.T) {
	_, err := newTestBuilder().Parse("  \n\t", "empty.txt")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrEmptyDocument))
}

func TestParseSectionsUsesGivenTopics(t *testing.T) {
	sections := []domain.ManualSection{
		{
			Topic: "Backbiting",
			Text: `Symptoms: speaking about an absent brother in a way he would dislike.
Evidence: "Would one of you like to eat the flesh of his dead brother? You would detest it." [Surah Al-Hujurat 49:12]`,
		},
		{Topic: "Too short", Text: `Evidence: "Short but valid quote." [Ref]`},
	}
	chunks, err := newTestBuilder().ParseSections(sections, "manual.yaml")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Backbiting", chunks[0].Topic)
	assert.Equal(t, domain.CategoryScripture, chunks[0].Evidence[0].Category)
}

func TestChunkIDIsDeterministic(t *testing.T) {
	assert.Equal(t, ChunkID("a.pdf", 3), ChunkID("a.pdf", 3))
	assert.NotEqual(t, ChunkID("a.pdf", 3), ChunkID("a.pdf", 4))
	assert.NotEqual(t, ChunkID("a.pdf", 3), ChunkID("b.pdf", 3))
}

func TestExpectedQuotes(t *testing.T) {
	assert.Equal(t, 1, expectedQuotes(strings.Repeat("x", 200)))
	assert.Equal(t, 2, expectedQuotes(strings.Repeat("x", 1600)))
	assert.Equal(t, 3, expectedQuotes(strings.Repeat("x", 90000)))
}
