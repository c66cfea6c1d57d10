package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeQuery(t *testing.T) {
	require.Equal(t, "roma", NormalizeQuery("ROMA "))
	require.Equal(t, "new york", NormalizeQuery("  New   York "))
	require.Equal(t, "reggio calabria", NormalizeQuery("Reggio\tCalabria"))
	require.Equal(t, "", NormalizeQuery("   "))
}

func TestValidateQuery(t *testing.T) {
	require.NoError(t, ValidateQuery("Roma"))
	require.NoError(t, ValidateQuery("Città del Messico"))
	require.NoError(t, ValidateQuery("Val-d'Oise"))
	require.NoError(t, ValidateQuery("St. Louis"))

	t.Run("Empty", func(t *testing.T) {
		require.ErrorIs(t, ValidateQuery("   "), ErrInvalidInput)
	})

	t.Run("TooLong", func(t *testing.T) {
		require.ErrorIs(t, ValidateQuery(strings.Repeat("a", MaxQueryLength+1)), ErrInvalidInput)
	})

	t.Run("DisallowedCharacters", func(t *testing.T) {
		require.ErrorIs(t, ValidateQuery("roma<script>"), ErrInvalidInput)
		require.ErrorIs(t, ValidateQuery("roma;rm -rf"), ErrInvalidInput)
	})

	t.Run("SQLInjection", func(t *testing.T) {
		require.ErrorIs(t, ValidateQuery("Roma'; DROP TABLE--"), ErrInvalidInput)
	})

	t.Run("PathTraversal", func(t *testing.T) {
		require.ErrorIs(t, ValidateQuery("..roma"), ErrInvalidInput)
	})

	t.Run("NoLetters", func(t *testing.T) {
		require.ErrorIs(t, ValidateQuery("12345"), ErrInvalidInput)
	})
}

func TestValidatePlaceLabel(t *testing.T) {
	require.NoError(t, ValidatePlaceLabel("Rome"))
	require.NoError(t, ValidatePlaceLabel("Reggio Calabria"))

	require.ErrorIs(t, ValidatePlaceLabel("<script>alert(1)</script> ../../etc/passwd"), ErrInvalidInput)
	require.ErrorIs(t, ValidatePlaceLabel("Roma'; DROP TABLE--"), ErrInvalidInput)
	require.ErrorIs(t, ValidatePlaceLabel(strings.Repeat("a", MaxPlaceNameLength+1)), ErrInvalidInput)
}

func TestSuspiciousInput(t *testing.T) {
	require.True(t, SuspiciousInput("DROP TABLE teleports"))
	require.True(t, SuspiciousInput("../etc/passwd"))
	require.True(t, SuspiciousInput("<script>alert(1)</script>"))
	require.False(t, SuspiciousInput("Rome"))
	require.False(t, SuspiciousInput("San Martino d'Agri"))
}

func TestValidateActorID(t *testing.T) {
	require.NoError(t, ValidateActorID("steve"))
	require.NoError(t, ValidateActorID("Player_01"))
	require.Error(t, ValidateActorID(""))
	require.Error(t, ValidateActorID("name with spaces"))
	require.Error(t, ValidateActorID(strings.Repeat("a", 17)))
	require.Error(t, ValidateActorID("bad;actor"))
}

func TestSanitizeActorID(t *testing.T) {
	require.Equal(t, "steve", SanitizeActorID("  Steve  "))
	require.Equal(t, "bobby", SanitizeActorID("bo;b<b>y"))
	require.Equal(t, strings.Repeat("a", 16), SanitizeActorID(strings.Repeat("a", 30)))
}

func TestSanitizePlaceName(t *testing.T) {
	require.Equal(t, "Rome", SanitizePlaceName("Rome"))
	require.Equal(t, "Rome", SanitizePlaceName("<Rome>"))
	require.Equal(t, "Unknown", SanitizePlaceName("<>\"'&"))
	require.Equal(t, "Rome", SanitizePlaceName("Ro\x00me\x1f"))

	long := strings.Repeat("x", MaxPlaceNameLength+20)
	require.Len(t, SanitizePlaceName(long), MaxPlaceNameLength)
}

func TestFailureKinds(t *testing.T) {
	err := RateLimited("slow down", 0)
	require.ErrorIs(t, err, ErrRateLimited)
	require.Equal(t, KindRateLimited, KindOf(err))

	wrapped := StorageFailure("flush", err)
	require.ErrorIs(t, wrapped, ErrStorage)
	require.Equal(t, KindStorage, KindOf(wrapped))
}
