package api

import (
	"strings"

	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
)

const defaultLang = "en"

var kindMessages = map[string]map[ingest.ErrorKind]string{
	"en": {
		ingest.KindRequiredFieldEmpty:    "A required field is empty.",
		ingest.KindWrongType:             "A field has the wrong type.",
		ingest.KindValidationFailed:      "The record failed validation.",
		ingest.KindUnrecognizedField:     "The record contains an unrecognized field.",
		ingest.KindRecommendedFieldEmpty: "A recommended field is empty.",
		ingest.KindMalformedImage:        "The image could not be decoded.",
		ingest.KindEmptyImage:            "The image file is empty.",
		ingest.KindTooSmall:              "The image is too small for similarity search.",
		ingest.KindNewVersion:            "This file replaces an earlier version of the image.",
		ingest.KindDuplicateImage:        "The image duplicates one already stored.",
		ingest.KindImageSizeTooSmall:     "The similarity service rejected the image as too small.",
		ingest.KindImageNotFound:         "A referenced image has not been uploaded.",
		ingest.KindNoImagesFound:         "None of the referenced images have been uploaded.",
		ingest.KindSimilarityFailure:     "The similarity service failed.",
		ingest.KindUploadError:           "The image could not be uploaded to storage.",
		ingest.KindErrorReadingZip:       "The archive could not be read.",
		ingest.KindZipFileEmpty:          "The archive contains no JPEG images.",
		ingest.KindErrorReadingData:      "The data file could not be read.",
		ingest.KindErrorSaving:           "The record could not be saved.",
		ingest.KindErrorDeleting:         "The record could not be deleted.",
		ingest.KindAbandoned:             "The batch was abandoned by an operator.",
		ingest.KindUnknownSource:         "The source is not known.",
		ingest.KindInvalidTransition:     "The batch cannot make that transition now.",
		ingest.KindDownloadError:         "The file could not be downloaded.",
		ingest.KindUnsupportedContent:    "The file type is not supported.",
	},
	"nl": {
		ingest.KindRequiredFieldEmpty: "Een verplicht veld is leeg.",
		ingest.KindWrongType:          "Een veld heeft het verkeerde type.",
		ingest.KindValidationFailed:   "Het record is ongeldig.",
		ingest.KindMalformedImage:     "De afbeelding kan niet worden gelezen.",
		ingest.KindEmptyImage:         "Het afbeeldingsbestand is leeg.",
		ingest.KindTooSmall:           "De afbeelding is te klein om te vergelijken.",
		ingest.KindNewVersion:         "Dit bestand vervangt een eerdere versie van de afbeelding.",
		ingest.KindImageNotFound:      "Een afbeelding waarnaar verwezen wordt is niet geüpload.",
		ingest.KindNoImagesFound:      "Geen van de afbeeldingen is geüpload.",
		ingest.KindErrorReadingZip:    "Het archief kan niet worden gelezen.",
		ingest.KindZipFileEmpty:       "Het archief bevat geen JPEG-afbeeldingen.",
		ingest.KindErrorReadingData:   "Het gegevensbestand kan niet worden gelezen.",
		ingest.KindAbandoned:          "De batch is afgebroken.",
		ingest.KindUnknownSource:      "De bron is onbekend.",
	},
}

var stateNames = map[string]map[ingest.State]string{
	"en": {
		ingest.StateStarted:                 "Uploaded",
		ingest.StateProcessStarted:          "Processing",
		ingest.StateProcessCompleted:        "Awaiting approval",
		ingest.StateImportStarted:           "Importing",
		ingest.StateImportCompleted:         "Imported",
		ingest.StateSimilaritySyncStarted:   "Syncing similar images",
		ingest.StateSimilaritySyncCompleted: "Similar images synced",
		ingest.StateCompleted:               "Completed",
		ingest.StateError:                   "Failed",
	},
	"nl": {
		ingest.StateStarted:          "Geüpload",
		ingest.StateProcessStarted:   "Bezig met verwerken",
		ingest.StateProcessCompleted: "Wacht op goedkeuring",
		ingest.StateImportStarted:    "Bezig met importeren",
		ingest.StateImportCompleted:  "Geïmporteerd",
		ingest.StateCompleted:        "Voltooid",
		ingest.StateError:            "Mislukt",
	},
}

// message renders kind in lang, falling back to English and then to the kind
// itself.
func message(lang string, kind ingest.ErrorKind) string {
	if msg, ok := kindMessages[lang][kind]; ok {
		return msg
	}
	if msg, ok := kindMessages[defaultLang][kind]; ok {
		return msg
	}
	return string(kind)
}

// knownKind reports whether kind has a message.
func knownKind(kind ingest.ErrorKind) bool {
	_, ok := kindMessages[defaultLang][kind]
	return ok
}

func stateName(lang string, state ingest.State) string {
	if name, ok := stateNames[lang][state]; ok {
		return name
	}
	if name, ok := stateNames[defaultLang][state]; ok {
		return name
	}
	return string(state)
}

// requestLang picks ?lang= first, then the primary Accept-Language tag.
func requestLang(query, acceptLanguage string) string {
	if lang := normalizeLang(query); lang != "" {
		return lang
	}
	first, _, _ := strings.Cut(acceptLanguage, ",")
	first, _, _ = strings.Cut(first, ";")
	if lang := normalizeLang(first); lang != "" {
		return lang
	}
	return defaultLang
}

func normalizeLang(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	base, _, _ := strings.Cut(tag, "-")
	if _, ok := kindMessages[base]; ok {
		return base
	}
	return ""
}
