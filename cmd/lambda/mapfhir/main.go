package main

import (
	"context"

	awslambda "github.com/aws/aws-lambda-go/lambda"

	"github.com/ehr/fhirmapper/internal/server"
)

var handler server.ProxyHandler

func init() {
	h, err := server.NewLambda(context.Background(), "/api/MapFHIR")
	if err != nil {
		panic("Failed to initialize MapFHIR handler: " + err.Error())
	}
	handler = h
}

func main() {
	awslambda.Start(handler)
}
