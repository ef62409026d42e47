// Package classification implements the third pipeline stage: an LLM reads
// the call transcript and returns a structured classification (call type,
// sale result, product family, problems, escalation, confidence scores).
//
// The primary model is tried first; when its call fails or its payload does
// not decode, the fallback model is asked instead. The normalized JSON, the
// model that produced it and a flattened call_classifications row are stored
// with the classified flag in one transaction.
package classification
