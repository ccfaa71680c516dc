package main

// General API documentation for swaggo. Generate with `swag init -g cmd/modelrouter/docs.go`.
//
// @title           modelrouter API
// @version         1.0
// @description     Subject-aware routing of questions to specialized local language models.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
