// Package assistant abstracts the AI backend behind one strategy interface.
//
// Three interchangeable implementations exist: Azure OpenAI chat completions
// (local sliding-window history), Azure AI Foundry agent threads, and Azure
// AI Foundry conversations (both remote-history). The turn dispatcher is
// parameterized over the interface and never branches on the backend.
package assistant
