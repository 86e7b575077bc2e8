package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"visiondetect/pkg/cache"
	"visiondetect/pkg/config"
	"visiondetect/pkg/detection"
	"visiondetect/pkg/media"
	"visiondetect/pkg/vllm"
)

func main() {
	// Load config.yml
	cfg, err := config.LoadConfig("config.yml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Load .env for secrets
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	endpoint := os.Getenv("VLLM_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:8000/v1"
	}
	apiKey := os.Getenv("VLLM_API_KEY")
	if apiKey == "" {
		apiKey = "empty" // local vLLM servers accept any placeholder key
	}
	model := os.Getenv("VLLM_MODEL")
	if model == "" {
		log.Fatal("Missing required environment variable: VLLM_MODEL")
	}

	if len(os.Args) < 3 {
		log.Fatalf("Usage: %s <image-path> <description>", os.Args[0])
	}
	imagePath := os.Args[1]
	description := os.Args[2]

	client := vllm.NewClient(vllm.Config{
		Endpoint:          endpoint,
		APIKey:            apiKey,
		Model:             model,
		ParallelInference: cfg.Inference.ParallelInference,
		Timeout:           time.Duration(cfg.Inference.TimeoutSeconds) * time.Second,
		Encode: media.EncodeOptions{
			Quality:      cfg.Image.JPEGQuality,
			MaxDimension: cfg.Image.MaxDimension,
		},
	})

	var detector detection.Detector = client

	// Optional Redis layer so results survive restarts
	if url := os.Getenv("REDIS_URL"); url != "" {
		redisCache, err := cache.NewRedisCache(url, "visiondetect")
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisCache.Close()

		ttl := time.Duration(cfg.Detection.ResultTTLHours * float64(time.Hour))
		detector = detection.NewRedisCachedDetector(detector, redisCache, ttl)
		log.Println("Redis result cache enabled")
	}
	detector = detection.NewCachedDetector(detector, cfg.Detection.CacheSize)

	if addr := os.Getenv("METRICS_ADDR"); addr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			log.Printf("Serving metrics on %s", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	}

	img, err := media.Load(imagePath)
	if err != nil {
		log.Fatalf("Failed to load image: %v", err)
	}

	ctx := context.Background()
	threshold := cfg.Detection.DefaultThreshold

	obj, err := detector.Detect(ctx, img, description, threshold, true)
	if err != nil {
		log.Fatalf("Detection failed: %v", err)
	}
	log.Printf("Token probability: detected=%t confidence=%.3f (model %s)", obj.IsDetected, obj.Confidence, obj.ModelName)

	obj, err = detector.Detect(ctx, img, description, threshold, false)
	if err != nil {
		log.Fatalf("Detection failed: %v", err)
	}
	log.Printf("Confidence scale: detected=%t confidence=%.3f", obj.IsDetected, obj.Confidence)
}
