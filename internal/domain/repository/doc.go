// Package repository define los tipos y contratos de dominio del registro de claves de firma.
//
// Estos contratos son independientes del almacenamiento subyacente
// (PostgreSQL, Redis, memoria). Las implementaciones concretas viven en
// internal/store/adapters/.
//
// Arquitectura:
//
//	┌─────────────────────────────────────────────────────┐
//	│        registry (SigningKeyRegistry, fachada)       │
//	└─────────────────────────────────────────────────────┘
//	                        │
//	                        ▼
//	┌─────────────────────────────────────────────────────┐
//	│        domain/repository (interfaces)               │
//	│  SignatureRepository, ProvisioningProbe             │
//	└─────────────────────────────────────────────────────┘
//	                        │
//	         ┌──────────────┼──────────────┐
//	         ▼              ▼              ▼
//	┌─────────────┐  ┌─────────────┐  ┌─────────────┐
//	│  adapters/  │  │  adapters/  │  │  adapters/  │
//	│     pg      │  │    redis    │  │   memory    │
//	└─────────────┘  └─────────────┘  └─────────────┘
//
// Convenciones:
//   - Cada TenantKeyspace ya está scoped a un tenant; no se pasa tenantID por método
//   - Context siempre es el primer parámetro
//   - Errores de dominio están en errors.go
package repository
