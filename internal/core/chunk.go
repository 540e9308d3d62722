package core

// WordTimestamp marks where a word falls in the generated audio, in seconds.
type WordTimestamp struct {
	Word      string  `json:"word"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// AudioChunk is one unit of backend output.
type AudioChunk struct {
	Samples        []int16
	WordTimestamps []WordTimestamp
	Output         []byte
}

// Len returns the number of samples in the chunk.
func (c AudioChunk) Len() int {
	return len(c.Samples)
}

// Combine concatenates chunks in order. Samples and timestamps are joined;
// pre-encoded output is dropped because it belongs to a single encoder pass.
func Combine(chunks ...AudioChunk) AudioChunk {
	var (
		sampleCount    int
		timestampCount int
	)

	for _, chunk := range chunks {
		sampleCount += len(chunk.Samples)
		timestampCount += len(chunk.WordTimestamps)
	}

	combined := AudioChunk{
		Samples:        make([]int16, 0, sampleCount),
		WordTimestamps: make([]WordTimestamp, 0, timestampCount),
		Output:         nil,
	}

	for _, chunk := range chunks {
		combined.Samples = append(combined.Samples, chunk.Samples...)
		combined.WordTimestamps = append(combined.WordTimestamps, chunk.WordTimestamps...)
	}

	return combined
}
