// Package config handles configuration loading for teams-gateway.
//
// Configuration is loaded from a YAML file with ${ENV_VAR} expansion, so
// secrets can stay in the environment:
//
//	bot:
//	  app_id: "${BOTSERVICE_APP_ID}"
//	  client_secret: "${BOTSERVICE_APP_SECRET}"
//	  oauth_connection_name: "teams-sso"
//	  allowed_tenants: ["${ALLOWED_TENANTS}"]
//
//	server:
//	  http_addr: "0.0.0.0:8000"
//	  public_base_url: "https://bot.example.com/api/messages"
//
//	assistant:
//	  backend: "foundry-threads"   # azure-openai, foundry-threads, foundry-conversations
//	  foundry:
//	    project_endpoint: "${AZURE_FOUNDRY_PROJECT_ENDPOINT}"
//	    agent_name: "${AZURE_FOUNDRY_AGENT_NAME}"
//
// Load validates required fields and fails fast with a descriptive error
// so a misconfigured deployment never starts serving.
package config
