package provider

const (
	summaryTemperature    = 0.2
	extractionTemperature = 0.0
)

const summarySystemPrompt = "You are an assistant that summarizes insurance support calls clearly and concisely. " +
	"Write a short, structured summary with: Purpose, Key details (bullets), " +
	"Customer sentiment, and Next steps. Only use information present in the transcript; do not invent details."

const extractionSystemPrompt = "Extract caller details from the transcript. " +
	"Return a JSON object with keys exactly: name, mobile_number, submission_number. " +
	"If a value is unknown, use null. Do not invent details."

const transcriptionPrompt = "Transcribe this insurance support call. " +
	"Return only the transcript text without timestamps."

func transcriptMessage(transcript string) string {
	return "Transcript:\n\n" + transcript
}
