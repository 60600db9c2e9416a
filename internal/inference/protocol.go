package inference

// initRequest configures the worker right after spawn.
type initRequest struct {
	Type              string `msgpack:"type"`
	Model             string `msgpack:"model"`
	NumFaces          int    `msgpack:"num_faces"`
	OutputBlendshapes bool   `msgpack:"output_blendshapes"`
	OutputMatrix      bool   `msgpack:"output_matrix"`
}

type readyResponse struct {
	Ready bool   `msgpack:"ready"`
	Model string `msgpack:"model"`
	Error string `msgpack:"error"`
}

type detectRequest struct {
	Type        string `msgpack:"type"`
	FrameData   []byte `msgpack:"frame_data"`
	Width       int    `msgpack:"width"`
	Height      int    `msgpack:"height"`
	TimestampMS int64  `msgpack:"timestamp_ms"`
}

type blendshapeScore struct {
	CategoryName string  `msgpack:"category_name"`
	Score        float64 `msgpack:"score"`
}

type detectResponse struct {
	Blendshapes []blendshapeScore `msgpack:"blendshapes"`
	// Matrix is column-major 4x4, empty when the model produced none.
	Matrix []float64 `msgpack:"matrix"`
	Error  string    `msgpack:"error"`
}
