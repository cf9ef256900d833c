// Package language normalizes the language codes accepted in configuration,
// stage parameters and API requests.
//
// Parsing is delegated to golang.org/x/text/language so BCP 47 tags, ISO
// 639-1 and ISO 639-2 codes are all understood; English word forms such as
// "german" are resolved through the display name tables.
package language
