package config

import "github.com/joho/godotenv"

func dotenvLoad(path string) error {
	return godotenv.Load(path)
}
