package models

// ScriptScene is one generated scene description
type ScriptScene struct {
	Description string  `json:"description"`
	Prompt      string  `json:"prompt"`
	Duration    float64 `json:"duration"`
}

// Script is the output of the script generator for a topic
type Script struct {
	Title  string        `json:"title"`
	Scenes []ScriptScene `json:"scenes"`
}
