package config

// UseCombinedConversion switches conversions to the authority's single
// create-and-link request, making the derived create and the source link atomic server side.
//
// Set via env:
// - COMBINED_CONVERSION=true
func UseCombinedConversion() bool {
	return boolFromEnv("COMBINED_CONVERSION", false)
}

// DetectDerivedDocuments makes the coordinator scan the derived collection for a
// document already referencing the source before creating a new one.
//
// Set via env:
// - DETECT_DERIVED_DOCUMENTS=false to disable (enabled by default)
func DetectDerivedDocuments() bool {
	return boolFromEnv("DETECT_DERIVED_DOCUMENTS", true)
}
