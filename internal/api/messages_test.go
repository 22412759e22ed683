package api

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
)

func TestMessageFallsBackToEnglish(t *testing.T) {
	t.Parallel()

	require.Equal(t, "De afbeelding is te klein om te vergelijken.", message("nl", ingest.KindTooSmall))
	require.Equal(t, "The record could not be saved.", message("nl", ingest.KindErrorSaving))
	require.Equal(t, "The record could not be saved.", message("fr", ingest.KindErrorSaving))
	require.Equal(t, "SOMETHING_NEW", message("en", ingest.ErrorKind("SOMETHING_NEW")))
}

func TestEveryKindHasAnEnglishMessage(t *testing.T) {
	t.Parallel()

	kinds := []ingest.ErrorKind{
		ingest.KindRequiredFieldEmpty, ingest.KindWrongType, ingest.KindValidationFailed,
		ingest.KindUnrecognizedField, ingest.KindRecommendedFieldEmpty, ingest.KindMalformedImage,
		ingest.KindEmptyImage, ingest.KindTooSmall, ingest.KindNewVersion, ingest.KindDuplicateImage,
		ingest.KindImageSizeTooSmall, ingest.KindImageNotFound, ingest.KindNoImagesFound,
		ingest.KindSimilarityFailure, ingest.KindUploadError, ingest.KindErrorReadingZip,
		ingest.KindZipFileEmpty, ingest.KindErrorReadingData, ingest.KindErrorSaving,
		ingest.KindErrorDeleting, ingest.KindAbandoned, ingest.KindUnknownSource,
		ingest.KindInvalidTransition, ingest.KindDownloadError, ingest.KindUnsupportedContent,
	}
	for _, k := range kinds {
		require.NotEqual(t, string(k), message("en", k), "missing message for %s", k)
	}
	for _, st := range ingest.States {
		require.NotEqual(t, string(st), stateName("en", st), "missing name for %s", st)
	}
}

func TestRequestLang(t *testing.T) {
	t.Parallel()

	tests := []struct {
		query, header, want string
	}{
		{"", "", "en"},
		{"nl", "", "nl"},
		{"NL-be", "", "nl"},
		{"", "nl-NL,nl;q=0.9,en;q=0.8", "nl"},
		{"", "fr-FR,fr;q=0.9", "en"},
		{"xx", "nl", "nl"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, requestLang(tt.query, tt.header), "query=%q header=%q", tt.query, tt.header)
	}
}
