package config

import "embed"

const configSchemaFile = "schema/coldgate.schema.json"

//go:embed schema/*.json
var configSchemaFS embed.FS
