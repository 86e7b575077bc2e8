package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Detection struct {
		DefaultThreshold float64 `yaml:"default_threshold"`
		CacheSize        int     `yaml:"cache_size"`
		ResultTTLHours   float64 `yaml:"result_ttl_hours"`
	} `yaml:"detection"`
	Inference struct {
		TimeoutSeconds    int  `yaml:"timeout_seconds"`
		ParallelInference bool `yaml:"parallel_inference"`
	} `yaml:"inference"`
	Image struct {
		JPEGQuality  int `yaml:"jpeg_quality"`
		MaxDimension int `yaml:"max_dimension"`
	} `yaml:"image"`
}

func LoadConfig(path string) (*Config, error) {
	config := &Config{}

	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		// Set default values
		config.Detection.DefaultThreshold = 0.1
		config.Detection.CacheSize = 256
		config.Detection.ResultTTLHours = 1
		config.Inference.TimeoutSeconds = 120
		config.Inference.ParallelInference = false
		config.Image.JPEGQuality = 90
		config.Image.MaxDimension = 0
		return config, nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	err = yaml.Unmarshal(file, config)
	if err != nil {
		return nil, err
	}

	return config, nil
}
